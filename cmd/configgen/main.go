package main

import (
	"flag"

	"github.com/aodjo/KakaoForge-sub001/internal/config"
	"github.com/aodjo/KakaoForge-sub001/internal/logging"
	"github.com/rs/zerolog/log"
)

func defaultPath(kind string) string {
	switch kind {
	case config.KindClient:
		return "cmd/carriagectl/config.toml"
	case config.KindAuth:
		return "cmd/carriagectl/auth.json"
	default:
		log.Fatal().Msgf("unknown kind: %s", kind)
		return ""
	}
}

func main() {
	kind := flag.String("kind", config.KindClient, "template kind: client|auth")
	output := flag.String("output", "", "output path for the template (defaults to per-kind cmd path)")
	validate := flag.Bool("validate", false, "validate an existing client config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing file")
	flag.Parse()
	logging.ConfigureRuntime()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(config.KindClient)
		}
		if _, err := config.Load(path); err != nil {
			log.Fatal().Err(err).Msg("configgen validate failed")
		}
		log.Info().Msgf("Validated client config at %s", path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("configgen write failed")
	}
	log.Info().Msgf("Wrote %s template to %s", *kind, target)
}
