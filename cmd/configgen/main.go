package main

import (
	"flag"

	"github.com/danmuck/binlink/internal/config"
	"github.com/danmuck/binlink/internal/logging"
	"github.com/rs/zerolog/log"
)

func defaultPath(kind string) string {
	switch kind {
	case "node":
		return "cmd/binlinkctl/node.toml"
	case "channel":
		return "cmd/binlinkctl/channel.toml"
	default:
		log.Fatal().Str("kind", kind).Msg("unknown config kind")
		return ""
	}
}

func main() {
	kind := flag.String("kind", "node", "config kind: node|channel")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing node config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()
	logging.ConfigureRuntime()

	if *validate {
		if *kind != "node" {
			log.Fatal().Str("kind", *kind).Msg("validation supports kind=node; channel files are checked by binlinkctl -channel")
		}
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		cfg, err := config.LoadNodeConfig(path)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid node config")
		}
		if _, err := config.PeerConfig(cfg); err != nil {
			log.Fatal().Err(err).Msg("invalid node config")
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("validated config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
