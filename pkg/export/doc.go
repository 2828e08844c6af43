// Package export provides backup and export of demand data.
//
// # Overview
//
// Two kinds of data can be exported:
//   - predictions: the stored forecast, one row per hour
//   - history: the observed login counts, one row per hour
//
// # Supported Formats
//
// CSV Format:
//   - No header, two columns: the hour as an ISO timestamp and the count
//   - Hours are written as YYYY-MM-DDThh:00:00
//   - Rows are sorted by hour, oldest first
//
// JSON Format:
//   - A metadata block (export time, kind, row count, version) and the rows
//   - History exports can be re-imported with POST /v1/import
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - format: "csv" or "json" (default: csv)
//   - kind: "predictions" or "history" (default: predictions)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?format=csv" -o predictions.csv
//
// Import endpoint: POST /v1/import
// Content-Type: application/json
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @history.json
//
// Imported counts are added to what the store already holds, the same way
// POST /v1/logins adds them. Import into an empty store to restore a backup.
//
// # Data Format
//
//	{
//	  "metadata": {
//	    "exported_at": "2012-05-01T03:00:00Z",
//	    "kind": "history",
//	    "rows": 1464,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "history": [
//	    {"bucket": "2012-03-01T00", "weekday": "Th", "hour": 0, "count": 31}
//	  ]
//	}
package export
