package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const tomlTemplate = `# coursegrab configuration
#
# Fill in the portal address and how to obtain a token, then list the
# courses to register for. Lower priority numbers are tried first.

username = ""
# a plain password, or one sealed with "coursegrab seal" (enc:...)
password = ""
# edge, chrome or firefox; passed to the login helper
browser = "edge"

use_multithreading = false
workers = 5
# seconds between rounds, jittered by +-0.2s
wait_time = 5.0
allow_over_capacity = false
# first: stop after one course is secured; all: keep going for the rest
goal = "first"
resume = false
max_rounds = 0
auth_failure_limit = 0
# metrics_addr = "127.0.0.1:9090"

[portal]
base_url = "https://xk.example.edu.cn"
timeout = "10s"

[token]
# value = "paste a token here, or set COURSEGRAB_TOKEN"
command = ["./login-helper"]
cache_duration = "1800s"
# cache_file = ".coursegrab/token"
verify = true

[rate_limit]
max_requests = 60
window = "60s"

[store]
driver = "file"
path = "selection.yaml"

[log]
level = "info"
pretty = true

[[courses]]
course_code = "08305001"
section_code = "1001"
priority = 1

[[courses]]
course_code = "08305002"
section_code = "1002"
priority = 2
time_slot = { day = "wed", start = "13:00", end = "14:40" }
`

const yamlTemplate = `# coursegrab configuration
username: ""
password: ""
browser: edge
use_multithreading: false
workers: 5
wait_time: 5.0
allow_over_capacity: false
goal: first
resume: false
max_rounds: 0
auth_failure_limit: 0

portal:
  base_url: https://xk.example.edu.cn
  timeout: 10s

token:
  command: ["./login-helper"]
  cache_duration: 1800s
  verify: true

rate_limit:
  max_requests: 60
  window: 60s

store:
  driver: file
  path: selection.yaml

log:
  level: info
  pretty: true

courses:
  - course_code: "08305001"
    section_code: "1001"
    priority: 1
  - course_code: "08305002"
    section_code: "1002"
    priority: 2
    time_slot: {day: wed, start: "13:00", end: "14:40"}
`

// WriteTemplate creates a starter config at path. It refuses to overwrite.
func WriteTemplate(path string) error {
	tmpl := tomlTemplate
	if formatOf(path) == "yaml" {
		tmpl = yamlTemplate
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	if _, err := f.WriteString(tmpl); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
