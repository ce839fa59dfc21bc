package domain

// JobInfo describes one entry of the static job catalog served by /jobs.
type JobInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UseCase     string `json:"use_case"`
}

var jobCatalog = map[JobKind]JobInfo{
	JobCrow: {
		Name:        string(JobCrow),
		Description: "General-purpose agent for literature search with cited answers",
		UseCase:     "General scientific questions",
	},
	JobFalcon: {
		Name:        string(JobFalcon),
		Description: "Specialised in deep literature reviews",
		UseCase:     "In-depth synthesis of scientific literature",
	},
	JobOwl: {
		Name:        string(JobOwl),
		Description: "Specialised in answering \"has anyone already done X?\"",
		UseCase:     "Prior-art and precedent search",
	},
	JobPhoenix: {
		Name:        string(JobPhoenix),
		Description: "Chemistry agent with cheminformatics tooling",
		UseCase:     "Synthesis planning and molecule design",
	},
	JobDummy: {
		Name:        string(JobDummy),
		Description: "Test job",
		UseCase:     "Testing and development",
	},
}

// JobCatalog returns the catalog keyed by job name.
func JobCatalog() map[string]JobInfo {
	out := make(map[string]JobInfo, len(jobCatalog))
	for k, v := range jobCatalog {
		out[string(k)] = v
	}
	return out
}
