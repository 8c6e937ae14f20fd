package store

import "gorm.io/gorm"

// Page describes a numeric-cursor, bidirectional range scan over an
// ordered history, per spec §4.B ("range scans for history ... paginated
// by numeric cursor supporting both directions").
type Page struct {
	// Start is the exclusive cursor position; zero means "from the edge".
	Start int64
	// Delta is the number of rows requested; negative walks backwards
	// (towards lower row ids) instead of forwards.
	Delta int
}

// applyCursor applies a Page to an ordered query over rowIDColumn, the way
// the GNU Taler merchant backend's history endpoints accept a signed
// "delta" parameter to page both forwards and backwards through order/tip
// history.
func applyCursor(q *gorm.DB, rowIDColumn string, p Page) *gorm.DB {
	limit := p.Delta
	forward := limit >= 0
	if !forward {
		limit = -limit
	}
	if p.Start != 0 {
		if forward {
			q = q.Where(rowIDColumn+" > ?", p.Start)
		} else {
			q = q.Where(rowIDColumn+" < ?", p.Start)
		}
	}
	if forward {
		q = q.Order(rowIDColumn + " ASC")
	} else {
		q = q.Order(rowIDColumn + " DESC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
