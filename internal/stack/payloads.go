package stack

import "fmt"

// The two workloads are demonstration payloads: a static dashboard served by
// the web deployment and a small echo API. Both are templated into container
// configuration at graph-build time; nothing here is system logic.

// dashboardHTML renders the static page the web workload serves.
func dashboardHTML(domain string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>%s dashboard</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 4rem auto; max-width: 40rem; color: #1c2733; }
    h1 { font-size: 1.6rem; }
    code { background: #eef2f6; padding: 0.15rem 0.4rem; border-radius: 4px; }
    .card { border: 1px solid #d6dee6; border-radius: 8px; padding: 1.2rem 1.5rem; margin-top: 1.5rem; }
  </style>
</head>
<body>
  <h1>%s</h1>
  <p>This page is served from the cluster's web deployment.</p>
  <div class="card">
    <p>Try the echo API:</p>
    <p><code>curl https://%s/api/hello</code></p>
  </div>
</body>
</html>
`, domain, domain, domain)
}

// apiServerJS is the echo API: a Node.js server inlined into the container's
// arguments, replying with a JSON description of each request.
func apiServerJS() string {
	return `const http = require("http");
const port = process.env.PORT || 8080;
http.createServer((req, res) => {
  let body = "";
  req.on("data", (chunk) => { body += chunk; });
  req.on("end", () => {
    res.writeHead(200, { "Content-Type": "application/json" });
    res.end(JSON.stringify({
      method: req.method,
      path: req.url,
      headers: req.headers,
      body: body,
      servedBy: process.env.HOSTNAME || "api",
    }) + "\n");
  });
}).listen(port, () => console.log("api listening on " + port));
`
}
