package ui

import "html/template"

var stagesTmpl = template.Must(template.New("stages").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>stagespy - Stages</title>
    <style>
        body { font-family: sans-serif; margin: 24px; }
        h4 { margin-bottom: 4px; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 16px; }
        th, td { border: 1px solid #ddd; padding: 6px 10px; text-align: left; }
        th { background: #f4f4f4; }
        ul.summary { list-style: none; padding-left: 0; }
        .progress-track { position: relative; background: #eee; height: 16px; min-width: 120px; }
        .progress-started { position: absolute; top: 0; left: 0; height: 100%; background: #b3d4fc; }
        .progress-completed { position: absolute; top: 0; left: 0; height: 100%; background: #5b9bd5; }
    </style>
</head>
<body>
    <h2>Job Stages</h2>
    <ul class="summary">
        <li><strong>CPU Time:</strong> {{.Summary.CPUTime}}</li>
        {{if .Summary.ShuffleRead}}<li><strong>Shuffle Read:</strong> {{.Summary.ShuffleRead}}</li>{{end}}
        {{if .Summary.ShuffleWrite}}<li><strong>Shuffle Write:</strong> {{.Summary.ShuffleWrite}}</li>{{end}}
    </ul>
    {{range .Tables}}
    <h4>{{.Title}}</h4>
    <table>
        <tr>
            <th>Stage Id</th>
            <th>Origin</th>
            <th>Submitted</th>
            <th>Duration</th>
            <th colspan="2">Tasks: Complete/Total</th>
            <th>Shuffle Read</th>
            <th>Shuffle Write</th>
            <th>Stored Dataset</th>
        </tr>
        {{range .Rows}}
        <tr>
            <td>{{.ID}}</td>
            <td>{{.Origin}}</td>
            <td>{{.Submitted}}</td>
            <td>{{.Duration}}</td>
            <td>
                <div class="progress-track">
                    <div class="progress-started" style="width: {{printf "%.1f" .Progress.StartedPercent}}%"></div>
                    <div class="progress-completed" style="width: {{printf "%.1f" .Progress.CompletedPercent}}%"></div>
                </div>
            </td>
            <td>{{.Tasks}}</td>
            <td>{{.ShuffleRead}}</td>
            <td>{{.ShuffleWrite}}</td>
            <td>{{if .Dataset}}<a href="/api/datasets/{{.Dataset.ID}}">{{if .Dataset.Name}}{{.Dataset.Name}}{{else}}{{.Dataset.ID}}{{end}}</a>{{end}}</td>
        </tr>
        {{end}}
    </table>
    {{end}}
</body>
</html>
`))
