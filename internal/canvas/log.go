package canvas

// DefaultHistoryLimit is the default capacity of a Log.
const DefaultHistoryLimit = 10000

// Log is the bounded, ordered history of commands applied at one peer.
// When full, appending evicts the oldest entry. A Log is not safe for
// concurrent use; it is owned by the peer's event loop.
type Log struct {
	buf   []Command
	head  int // index of the oldest entry
	count int
}

// NewLog returns an empty log holding at most limit commands. A limit <= 0
// selects DefaultHistoryLimit.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Log{buf: make([]Command, limit)}
}

// Cap is the maximum number of commands retained.
func (l *Log) Cap() int { return len(l.buf) }

// Len is the number of commands currently retained.
func (l *Log) Len() int { return l.count }

// Append adds cmd as the newest entry and reports whether an older entry was
// evicted to make room.
func (l *Log) Append(cmd Command) (evicted bool) {
	if l.count == len(l.buf) {
		l.buf[l.head] = cmd
		l.head = (l.head + 1) % len(l.buf)
		return true
	}
	l.buf[(l.head+l.count)%len(l.buf)] = cmd
	l.count++
	return false
}

// Replace discards the current contents and installs the last Cap() entries
// of cmds in order.
func (l *Log) Replace(cmds []Command) {
	clear(l.buf)
	l.head = 0
	if len(cmds) > len(l.buf) {
		cmds = cmds[len(cmds)-len(l.buf):]
	}
	l.count = copy(l.buf, cmds)
}

// Each calls fn for every retained command, oldest first.
func (l *Log) Each(fn func(Command)) {
	for i := 0; i < l.count; i++ {
		fn(l.buf[(l.head+i)%len(l.buf)])
	}
}

// Snapshot returns a copy of the retained commands, oldest first.
func (l *Log) Snapshot() []Command {
	out := make([]Command, 0, l.count)
	l.Each(func(c Command) { out = append(out, c) })
	return out
}
