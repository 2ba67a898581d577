// Package config loads the vb configuration.
//
// Values come, in increasing precedence, from built-in defaults, a
// configuration file, VB_-prefixed environment variables and command
// line flags bound by the CLI. The file is vb.yaml, vb.json or vb.toml in
// the working directory or $HOME/.config/vb, unless a path is given. A
// missing file is not an error.
//
// # Configuration File Structure
//
//	server:
//	  address: ":3000"
//	  allowed_origins: ["*"]
//	  heartbeat_interval: 30s
//	  max_missed_heartbeats: 3
//	browser:
//	  workspace_root: /tmp
//	  workspace_prefix: virtual-browser-
//	  width: 1920
//	  height: 1080
//	  navigation_timeout: 30s
//	  image_format: png
//	stream:
//	  fps: 30
//	  navigation_deferral: 1s
//	reaper:
//	  retention: 1h
//	  interval: 1h
//	log:
//	  level: info
//	  format: text
//
// Environment variables replace dots with underscores:
// VB_SERVER_ADDRESS, VB_STREAM_FPS, VB_LOG_LEVEL.
//
// # Usage
//
//	cfg, err := config.Load(viper.New(), "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := server.New(cfg.ServerConfig(), engine, cfg.Logger(os.Stderr))
package config
