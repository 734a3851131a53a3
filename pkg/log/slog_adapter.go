package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an operational logger: error events at warn
// level, everything else at debug.
type SlogAdapter struct {
	logger *slog.Logger
}

var _ Logger = (*SlogAdapter)(nil)

func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger.With("component", "protocol")}
}

func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	if event.Error != nil {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}
	a.logger.LogAttrs(ctx, level, event.Layer.String()+" "+event.Category.String(), eventAttrs(event)...)
}

func eventAttrs(event Event) []slog.Attr {
	attrs := make([]slog.Attr, 0, 10)
	attrs = append(attrs, slog.String("layer", event.Layer.String()))
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}
	if event.FabricIndex != 0 {
		attrs = append(attrs, slog.Int("fabric_index", int(event.FabricIndex)))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.Int("frame_size", event.Frame.Size))
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.String("msg_type", event.Message.Type.String()),
			slog.Int("payload_size", event.Message.PayloadSize))
		if event.Message.Status != nil {
			attrs = append(attrs, slog.String("status", event.Message.Status.String()))
		}
	case event.StateChange != nil:
		sc := event.StateChange
		attrs = append(attrs,
			slog.String("entity", sc.Entity.String()),
			slog.String("old_state", sc.OldState),
			slog.String("new_state", sc.NewState))
		if sc.Reason != "" {
			attrs = append(attrs, slog.String("reason", sc.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error", event.Error.Message),
			slog.String("op", event.Error.Context))
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("code", *event.Error.Code))
		}
	}
	return attrs
}
