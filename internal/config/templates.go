package config

import (
	"fmt"
	"os"

	gotoml "github.com/pelletier/go-toml/v2"
)

func Template() string {
	return deployTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(deployTemplate), 0o600)
}

// Render encodes a resolved config back to TOML.
func Render(cfg Config) ([]byte, error) {
	out, err := gotoml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return out, nil
}

const deployTemplate = `application = "shop"
deploy_to = "/srv/shop"
stage = "staging"
keep_releases = 5
max_parallel_hosts = 0
metrics_addr = ""
cors_origins = ["http://localhost:3000"]
status_token_env = "DEPLOYCTL_STATUS_TOKEN"

supervisor_pid_file = "/tmp/supervisord.pid"
supervisor_config_file = "supervisord.conf"

shared_virtualenv = true
pip_requirements = "requirements.txt"

django_compressor = false
compilemessages = true
collectstatic = true
django_project_dir = "shop"
django_settings_dir = "shop/settings"
django_settings = "staging"
wsgi_path = "wsgi"
nginx = false
multidb = false
migrate = true

celery_name = ""
restart_celery_on_deploy = false

[[celery_names]]
name = "default"
beat = true

[[celery_names]]
name = "mail"
beat = false

[ssh]
user = "deploy"
port = 22
key_path = "~/.ssh/id_ed25519"
known_hosts = "~/.ssh/known_hosts"
use_agent = true
timeout = "10s"

[[servers]]
address = "staging.example.com"
roles = ["web", "jobs"]

[stages.staging]
django_settings = "staging"

[stages.production]
django_settings = "production"
max_parallel_hosts = 4
restart_celery_on_deploy = true

[[stages.production.servers]]
address = "web-1.example.com"
roles = ["web"]

[[stages.production.servers]]
address = "web-2.example.com"
roles = ["web"]

[[stages.production.servers]]
address = "jobs-1.example.com"
roles = ["jobs"]
`
