// Package report renders the human-readable run report and the JSON
// summary sidecar consumed by the external reporting collaborator.
package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// Section is one titled key/value block of the report.
type Section struct {
	Title string
	Rows  [][2]string
}

// Payload is everything the HTML report renders.
type Payload struct {
	Title       string
	GeneratedAt time.Time
	Status      string
	Sections    []Section
}

const htmlName = "run_report.html"
const jsonName = "run_summary.json"

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1a1a2e; }
h1 { margin-bottom: 0.25rem; }
.meta { color: #666; margin-bottom: 1.5rem; }
.status { display: inline-block; padding: 0.2rem 0.6rem; border-radius: 4px;
  font-weight: 600; background: #e6f4ea; color: #137333; }
.status.failed { background: #fce8e6; color: #c5221f; }
section { margin-bottom: 1.5rem; border: 1px solid #ddd; border-radius: 6px; padding: 1rem; }
h2 { font-size: 1.05rem; margin-top: 0; }
table { border-collapse: collapse; width: 100%; }
td { padding: 0.4rem 0.6rem; border-bottom: 1px solid #eee; }
td:first-child { color: #555; width: 40%; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="meta">Generated {{.GeneratedAt.Format "2006-01-02T15:04:05Z07:00"}}
<span class="status{{if ne .Status "success"}} failed{{end}}">{{.Status}}</span></p>
{{range .Sections}}<section>
<h2>{{.Title}}</h2>
<table>
{{range .Rows}}<tr><td>{{index . 0}}</td><td>{{index . 1}}</td></tr>
{{end}}</table>
</section>
{{end}}</body>
</html>
`))

// WriteHTML renders the payload into dir and returns the report path.
func WriteHTML(dir string, p *Payload) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "create report directory").
			WithDetail("dir", dir)
	}
	path := filepath.Join(dir, htmlName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "create report file").
			WithDetail("path", path)
	}
	defer f.Close()

	if err := reportTemplate.Execute(f, p); err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "render report").
			WithDetail("path", path)
	}
	return path, nil
}

// WriteJSON writes the machine-readable summary sidecar into dir.
func WriteJSON(dir string, v interface{}) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "create report directory").
			WithDetail("dir", dir)
	}
	path := filepath.Join(dir, jsonName)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeInternal, "encode run summary")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "write run summary").
			WithDetail("path", path)
	}
	return path, nil
}

// HostSection probes host resources for the report. Best effort: probe
// failures leave rows out rather than failing the report.
func HostSection() Section {
	rows := [][2]string{
		{"Go runtime", runtime.Version()},
		{"OS/Arch", runtime.GOOS + "/" + runtime.GOARCH},
	}
	if logical, err := cpu.Counts(true); err == nil {
		rows = append(rows, [2]string{"CPU cores (logical)", fmt.Sprintf("%d", logical)})
	}
	if physical, err := cpu.Counts(false); err == nil {
		rows = append(rows, [2]string{"CPU cores (physical)", fmt.Sprintf("%d", physical)})
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		rows = append(rows,
			[2]string{"Total RAM", fmt.Sprintf("%.1f GiB", float64(vm.Total)/(1<<30))},
			[2]string{"Available RAM", fmt.Sprintf("%.1f GiB", float64(vm.Available)/(1<<30))},
		)
	}
	return Section{Title: "Host Resources", Rows: rows}
}
