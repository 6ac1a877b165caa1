package emit

import "log/slog"

// LogEmitter writes events through a structured slog logger, one record per
// event with run/step/node attributes.
type LogEmitter struct {
	log   *slog.Logger
	level slog.Level
}

// NewLogEmitter creates a LogEmitter. A nil logger falls back to
// slog.Default.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log, level: slog.LevelDebug}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	attrs := []any{
		"run_id", event.RunID,
		"type", string(event.Type),
	}
	if event.Step > 0 {
		attrs = append(attrs, "step", event.Step)
	}
	if event.Node != "" {
		attrs = append(attrs, "node", event.Node)
	}
	for k, v := range event.Meta {
		attrs = append(attrs, k, v)
	}
	msg := event.Msg
	if msg == "" {
		msg = string(event.Type)
	}
	l.log.Debug(msg, attrs...)
}
