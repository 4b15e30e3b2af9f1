package engine

// msgEntry is the state of one named message: a last-writer-wins
// rendezvous slot, not a queue or a durable value.
type msgEntry struct {
	name  string
	text  string
	owner *Connection
}

// MsgTable is the name→msgEntry map.
type MsgTable struct {
	entries map[string]*msgEntry
}

// NewMsgTable returns an empty message table.
func NewMsgTable() *MsgTable {
	return &MsgTable{entries: make(map[string]*msgEntry)}
}

// Set replaces text and owner for name unconditionally, materializing the
// entry if it doesn't already exist. No response accompanies set: callers
// that issued set have no way to observe whether it landed.
func (t *MsgTable) Set(name, text string, owner *Connection) {
	e, ok := t.entries[name]
	if !ok {
		e = &msgEntry{name: name}
		t.entries[name] = e
	}
	e.text = text
	e.owner = owner
}

// Get returns the text for name and true if present. Absent names
// deliberately leave the table untouched: because lookups by pure queries
// never materialize an entry, there is nothing for an absent lookup to
// delete, so get is strictly read-only.
func (t *MsgTable) Get(name string) (text string, ok bool) {
	e, ok := t.entries[name]
	if !ok {
		return "", false
	}
	return e.text, true
}

// Release deletes name's entry if caller is its recorded owner; otherwise
// it is a no-op because another writer has since taken ownership.
func (t *MsgTable) Release(name string, caller *Connection) {
	e, ok := t.entries[name]
	if !ok || e.owner != caller {
		return
	}
	delete(t.entries, name)
}
