package snapshot

import (
	"context"
	"encoding/json"

	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
)

// stateReaderWriter is the narrow slice of fakeconnector-shaped state
// access a Connector-backed Capturer needs; production Connector
// implementations expose an equivalent capability alongside
// ExecuteQuery for whichever CM product they target.
type stateReaderWriter interface {
	connector.Connector
	Snapshot() map[string]interface{}
	Restore(state map[string]interface{})
}

// ConnectorCapturer captures and restores a Connector's live state by
// JSON-encoding the map stateReaderWriter.Snapshot returns. Scope is
// accepted for interface conformance; this capturer snapshots the
// connector's entire observable state rather than scoping by
// component path, since the narrow Connector port has no notion of
// partial state regions.
type ConnectorCapturer struct {
	conn stateReaderWriter
}

// NewConnectorCapturer wraps a connector exposing Snapshot/Restore.
func NewConnectorCapturer(conn stateReaderWriter) *ConnectorCapturer {
	return &ConnectorCapturer{conn: conn}
}

func (c *ConnectorCapturer) Capture(ctx context.Context, scope diagtypes.SnapshotScope) ([]byte, error) {
	return json.Marshal(c.conn.Snapshot())
}

func (c *ConnectorCapturer) Restore(ctx context.Context, scope diagtypes.SnapshotScope, payload []byte) error {
	var state map[string]interface{}
	if err := json.Unmarshal(payload, &state); err != nil {
		return err
	}
	c.conn.Restore(state)
	return nil
}
