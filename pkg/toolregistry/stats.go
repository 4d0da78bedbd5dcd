package toolregistry

// Stats summarizes the catalog for dashboards.
type Stats struct {
	Total            int                     `json:"total"`
	Deprecated       int                     `json:"deprecated"`
	ByCategory       map[string]int          `json:"byCategory"`
	ByPermission     map[PermissionLevel]int `json:"byPermissionLevel"`
	RateLimited      int                     `json:"rateLimited"`
	Metered          int                     `json:"metered"`
	RateLimitEntries int                     `json:"rateLimitEntries"`
}

// Stats counts registered tools by category and permission level.
func (r *Registry) Stats() Stats {
	s := Stats{
		ByCategory:   make(map[string]int),
		ByPermission: make(map[PermissionLevel]int),
	}
	for _, level := range AllPermissionLevels() {
		s.ByPermission[level] = 0
	}

	for _, e := range r.current.Load().entries {
		def := e.def
		s.Total++
		if def.deprecated {
			s.Deprecated++
		}
		if def.rateLimit != nil {
			s.RateLimited++
		}
		if def.creditCost > 0 {
			s.Metered++
		}
		s.ByCategory[def.category]++
		s.ByPermission[def.level]++
	}
	s.RateLimitEntries = r.limiter.Len()
	return s
}
