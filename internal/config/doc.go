// Package config handles configuration loading and validation for coven-council.
//
// # Configuration File
//
// The configuration is YAML by default; files ending in .toml are read as TOML.
// The file is located by, in order: the --config flag, $COVEN_COUNCIL_CONFIG, then
// $XDG_CONFIG_HOME/coven/council.yaml.
//
// Example:
//
//	council:
//	  max_rounds: 20
//	  turn_timeout: "120s"
//
//	llm:
//	  base_url: "https://llm.example.com/v1"
//	  api_key: "${LLM_API_KEY}"
//	  model: "gpt-4o-mini"
//	  temperature: 0.3
//	  headers:
//	    x-folder-id: "${FOLDER_ID}"
//
//	sandbox:
//	  url: "http://127.0.0.1:8090"
//
//	matrix:
//	  enabled: true
//	  homeserver: "https://matrix.org"
//	  user_id: "@council:matrix.org"
//	  access_token: "${MATRIX_TOKEN}"
//	  allowed_rooms: ["!abc:matrix.org"]
//
//	http:
//	  enabled: true
//	  addr: "127.0.0.1:8080"
//
//	auth:
//	  jwt_secret: "${COUNCIL_JWT_SECRET}"
//
//	redis:
//	  addr: "127.0.0.1:6379"
//	  lease_ttl: "1m"
//
//	database:
//	  path: "./data/council.db"
//
// # Environment Variables
//
// ${VAR} references anywhere in the file are replaced before decoding. Unset
// variables expand to the empty string.
//
// # Team
//
// The roles and edges sections override the default five-role team. A role entry
// with a known id patches that role; an unknown id adds one. When edges are given
// they replace the default transition table and the first edge's source becomes
// the entry role. Validation builds the team, so an unreachable role or a
// coordinator inside the graph fails at load time.
package config
