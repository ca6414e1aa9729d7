package model

// LookupKey addresses a stored message by either of its provider ids.
//
// Candidates are tried in order (ExternalID, then MetaID) and every
// candidate is matched against both the stored externalId and metaId
// columns. A match on externalId always wins over a match on metaId.
type LookupKey struct {
	ExternalID string
	MetaID     string
}

// ByID is the key used by message creation: the same id is probed in
// both columns, because status updates reference messages by the id
// creation stored.
func ByID(id string) LookupKey {
	return LookupKey{ExternalID: id}
}

func (k LookupKey) Empty() bool {
	return k.ExternalID == "" && k.MetaID == ""
}

// Candidates returns the distinct non-empty ids in precedence order.
func (k LookupKey) Candidates() []string {
	out := make([]string, 0, 2)
	if k.ExternalID != "" {
		out = append(out, k.ExternalID)
	}
	if k.MetaID != "" && k.MetaID != k.ExternalID {
		out = append(out, k.MetaID)
	}
	return out
}

// Matches reports whether m is addressed by the key.
func (k LookupKey) Matches(m Message) bool {
	for _, c := range k.Candidates() {
		if m.ExternalID == c || m.MetaID == c {
			return true
		}
	}
	return false
}

// Rank orders matching messages: lower is better. It returns -1 when m is
// not addressed by the key at all.
func (k LookupKey) Rank(m Message) int {
	cands := k.Candidates()
	for i, c := range cands {
		if m.ExternalID == c {
			return i
		}
	}
	for i, c := range cands {
		if m.MetaID == c {
			return len(cands) + i
		}
	}
	return -1
}
