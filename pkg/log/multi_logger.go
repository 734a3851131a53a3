package log

// MultiLogger fans events out to several loggers in order.
type MultiLogger struct {
	loggers []Logger
}

var _ Logger = (*MultiLogger)(nil)

// NewMultiLogger combines loggers. Nil entries are skipped and nested
// MultiLoggers are flattened.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		switch l := l.(type) {
		case nil:
		case *MultiLogger:
			m.loggers = append(m.loggers, l.loggers...)
		default:
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}
