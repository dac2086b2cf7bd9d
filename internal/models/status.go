package models

// CleanResult reports what a clean removed.
type CleanResult struct {
	Paths   []string `json:"paths"`
	Removed []string `json:"removed"`
}

// AlreadyEmpty reports whether nothing was there to remove.
func (r *CleanResult) AlreadyEmpty() bool {
	return len(r.Removed) == 0
}

// Status describes a store on disk.
type Status struct {
	Base          string   `json:"base"`
	Layout        string   `json:"layout"`
	Paths         []string `json:"paths"`
	Records       int      `json:"records"`
	IndexType     string   `json:"index_type"`
	IndexSize     int      `json:"index_size"`
	Consistent    bool     `json:"consistent"`
	DiskUsage     int64    `json:"disk_usage_bytes"`
	FAISSCompiled bool     `json:"faiss_compiled"`
}
