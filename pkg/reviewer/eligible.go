package reviewer

// Eligible returns the identities that may review a pull request by author.
// The pool is the configured team, or every identity in the table when no
// team is configured. An empty author excludes nobody by authorship.
// Pool order is preserved and duplicates are dropped.
func (s *Selector) Eligible(author string, table Table) []string {
	pool := s.cfg.Team
	if len(pool) == 0 {
		pool = table.Logins()
	}

	seen := make(map[string]bool, len(pool))
	eligible := make([]string, 0, len(pool))
	for _, login := range pool {
		switch {
		case seen[login]:
			continue
		case s.skip(login):
			continue
		case author != "" && login == author:
			continue
		case s.excluded[login]:
			continue
		case s.unavailable(login):
			continue
		}
		seen[login] = true
		eligible = append(eligible, login)
	}
	return eligible
}
