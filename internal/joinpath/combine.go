package joinpath

import (
	"vizflow/internal/domain"
)

// Combine brings related datasets onto the primary rows by following hops
// outward from the primary dataset. Each hop is a left lookup: a row keeps
// its own columns and gains the columns of the first related row whose key
// matches; rows without a match are kept unchanged. Inputs are not modified.
func Combine(primary string, rows map[string][]domain.Row, hops []domain.JoinHop) ([]domain.Row, error) {
	base, ok := rows[primary]
	if !ok {
		return nil, domain.ErrNotFound("dataset %q not loaded", primary)
	}
	out := make([]domain.Row, len(base))
	for i, r := range base {
		out[i] = r.Clone()
	}
	if len(hops) == 0 {
		return out, nil
	}

	joined := map[string]bool{primary: true}
	pending := append([]domain.JoinHop(nil), hops...)
	for len(pending) > 0 {
		progress := false
		rest := pending[:0]
		for _, hop := range pending {
			if !joined[hop.To] {
				rest = append(rest, hop)
				continue
			}
			if joined[hop.From] {
				progress = true
				continue
			}
			related, ok := rows[hop.From]
			if !ok {
				return nil, domain.ErrNotFound("dataset %q not loaded", hop.From)
			}
			lookup(out, related, hop.Key)
			joined[hop.From] = true
			progress = true
		}
		pending = rest
		if !progress {
			return nil, &domain.JoinPathError{From: pending[0].From, To: primary, Reason: domain.JoinPathNoPath}
		}
	}
	return out, nil
}

func lookup(out, related []domain.Row, key string) {
	index := make(map[string]domain.Row, len(related))
	for _, r := range related {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		k := domain.ValueKey(v)
		if _, dup := index[k]; dup {
			continue
		}
		index[k] = r
	}
	for _, row := range out {
		v := row[key]
		if v == nil {
			continue
		}
		match, ok := index[domain.ValueKey(v)]
		if !ok {
			continue
		}
		for col, val := range match {
			if _, exists := row[col]; !exists {
				row[col] = val
			}
		}
	}
}
