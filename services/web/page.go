package web

import "html/template"

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><title>{{.Name}}</title>
<style type="text/css">
body { background-color:#000000;color:#cccccc; }
table, th, td { border:1px solid #aaaaff;border-collapse:collapse;padding:5px; }
th { text-align:left; }
td { text-align:right; }
a:link, a:visited, a:hover { color:#ccccff; }
</style>
</head><body>
<h1>{{.Name}}</h1>
<noscript>JavaScript is disabled, so this page will not update by itself; reload it.<br></noscript>
<table><tr><th>UpdateTS</th><td id="ts">{{.View.TS}}</td></tr>
<tr><th>CO2 (ppm)</th><td id="co2">{{.View.CO2}}</td></tr>
<tr><th>Temperature (C)</th><td id="temp">{{.View.Temp}}</td></tr>
<tr><th>Humidity (%)</th><td id="hum">{{.View.Hum}}</td></tr></table>
<script type="text/javascript">
function show(d) {
  document.getElementById("ts").textContent = d ? d.ts : "---";
  document.getElementById("co2").textContent = d ? d.co2 : "{{.Placeholders.CO2}}";
  document.getElementById("temp").textContent = d ? d.temp : "{{.Placeholders.Temp}}";
  document.getElementById("hum").textContent = d ? d.hum : "{{.Placeholders.Hum}}";
}
function refresh() {
  var xhr = new XMLHttpRequest();
  xhr.open("GET", "/json", true);
  xhr.responseType = "json";
  xhr.onload = function() { show(xhr.status === 200 ? xhr.response : null); };
  xhr.onerror = function() { show(null); };
  xhr.send();
}
setInterval(refresh, {{.RefreshMS}});
</script>
<br>For querying this data in scripts, use <a href="/json">the JSON output under /json</a>.
<hr><small>firmware {{.Version}}</small>
</body></html>
`))

type pageData struct {
	Name         string
	Version      string
	View         View
	Placeholders View
	RefreshMS    int
}
