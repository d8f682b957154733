// Package slurm submits jobs to a SLURM cluster for detached execution.
//
// Jobs are grouped by name: a solitary job becomes a plain sbatch script,
// a batch of indexed jobs becomes a single array submission that dispatches
// on SLURM_ARRAY_TASK_ID. Scripts are written into the engine's working
// directory and submitted with `sbatch --parsable`, either on the local
// machine or on a remote head node over SSH.
package slurm
