// corpus-build embeds every intent pattern and writes the vector
// corpus the classifier searches at runtime. Run it whenever the
// intents file changes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joho/godotenv"

	"github.com/parleyhq/parley/cmd/mainconfig"
	appconfig "github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/retry"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	intentsPath := flag.String("intents", cfg.IntentsPath, "path to the intents JSON file")
	outPath := flag.String("out", cfg.CorpusDBPath, "path to write the corpus database")
	modelID := flag.String("model", cfg.BedrockEmbeddingModelID, "embedding model id")
	flag.Parse()

	catalog, err := intent.LoadResponseCatalog(*intentsPath)
	if err != nil {
		log.Fatalf("load intents: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	embedder := intent.NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), *modelID)

	type pending struct {
		intent  string
		pattern string
		vec     []float32
	}
	policy := retry.Default()
	var rows []pending
	for name, def := range catalog.Definitions() {
		for _, pattern := range def.Patterns {
			var vec []float32
			err := policy.Do(ctx, func(ctx context.Context) error {
				var err error
				vec, err = embedder.EmbedText(ctx, pattern)
				return err
			})
			if err != nil {
				log.Fatalf("embed %q: %v", pattern, err)
			}
			rows = append(rows, pending{intent: name, pattern: pattern, vec: vec})
		}
	}
	if len(rows) == 0 {
		log.Fatal("intents file contains no patterns")
	}

	// Build into a temp file first so a failed run never truncates the
	// corpus the running service has open.
	tmpPath := *outPath + ".tmp"
	builder, err := intent.NewCorpusBuilder(tmpPath, len(rows[0].vec))
	if err != nil {
		log.Fatalf("create corpus: %v", err)
	}
	for _, row := range rows {
		if err := builder.AddPattern(row.intent, row.pattern, row.vec); err != nil {
			builder.Close()
			log.Fatalf("add pattern %q: %v", row.pattern, err)
		}
	}
	if err := builder.Close(); err != nil {
		log.Fatalf("close corpus: %v", err)
	}
	if err := os.Rename(tmpPath, *outPath); err != nil {
		log.Fatalf("replace corpus: %v", err)
	}

	log.Printf("corpus built: %d patterns, %d dims, %s", len(rows), len(rows[0].vec), *outPath)
}
