package scanner

import (
	"context"

	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/value"
)

// ConnectorExtractor builds an Extractor that runs q through conn and
// converts each returned Row into a Record, keyed by resourceKey.
// resourceKey picks the field within a row that identifies the
// resource (e.g. "hostname", "table_name"); a row missing that field
// (or holding a non-string value there) is skipped. All of the row's
// fields, the resource key included, are nested under component
// so a rule's dotted field-path (e.g. "performance.cpu_percent")
// resolves against them.
func ConnectorExtractor(conn connector.Connector, q connector.Query, resourceKey, component string) Extractor {
	return func(ctx context.Context) ([]Record, error) {
		rows, err := conn.ExecuteQuery(ctx, q)
		if err != nil {
			return nil, err
		}

		records := make([]Record, 0, len(rows))
		for _, row := range rows {
			id, ok := row[resourceKey]
			if !ok {
				continue
			}
			path, ok := id.(string)
			if !ok {
				continue
			}

			fields := make(map[string]value.Value, len(row))
			for k, v := range row {
				fields[k] = value.FromNative(v)
			}
			records = append(records, Record{
				ResourcePath: path,
				Data:         map[string]value.Value{component: value.Map(fields)},
			})
		}
		return records, nil
	}
}
