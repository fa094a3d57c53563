package models

// KeySet is a set of primary key values already present in a table.
type KeySet map[int64]struct{}

func NewKeySet(ids ...int64) KeySet {
	s := make(KeySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s KeySet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s KeySet) Add(id int64) {
	s[id] = struct{}{}
}
