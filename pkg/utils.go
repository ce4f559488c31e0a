package pkg

import (
	"github.com/rs/zerolog/log"

	"xenoimm/pkg/data"
)

func printDataErrors(errors []data.DataError) {
	for _, err := range errors {
		log.Error().Msgf("Error in %s line %d: %s", err.File, err.Line, err.Error)
	}
}
