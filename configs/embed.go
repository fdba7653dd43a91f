// Package configs bundles the agent and task definitions of every pipeline.
package configs

import "embed"

// Definitions holds one directory per pipeline with agents.yaml and tasks.yaml.
//
//go:embed hr_qa ats_checker job_analyzer resume_builder
var Definitions embed.FS
