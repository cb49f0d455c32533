package domain

// ChangeType classifies how a file differs from its last recorded state.
// It is computed fresh on every ingestion attempt and never persisted.
type ChangeType int

const (
	ChangeUnchanged ChangeType = iota
	ChangeAppend
	ChangeTruncate
	ChangeRewrite
)

func (c ChangeType) String() string {
	switch c {
	case ChangeUnchanged:
		return "unchanged"
	case ChangeAppend:
		return "append"
	case ChangeTruncate:
		return "truncate"
	case ChangeRewrite:
		return "rewrite"
	default:
		return "unknown"
	}
}
