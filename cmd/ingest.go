package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/index"
	"github.com/spigell/jobfit-ai/internal/utils"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [documents...]",
	Short: "Build a vector index from documents, optionally store it in pgvector and query it",
	Run: func(cmd *cobra.Command, args []string) {
		ingest(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolP("save", "s", false, "save the index into the pgvector collection")
	ingestCmd.Flags().StringP("collection", "c", "", "pgvector collection name (default rag.postgres.collection)")
	ingestCmd.Flags().StringP("query", "q", "", "print the chunks nearest to this query")
	ingestCmd.Flags().IntP("k", "k", 0, "number of chunks to print (default rag.k)")

	viper.BindPFlag("rag.postgres.collection", ingestCmd.Flags().Lookup("collection"))
	viper.BindPFlag("rag.k", ingestCmd.Flags().Lookup("k"))
}

func ingest(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer a.close()

	documents := args
	if len(documents) == 0 {
		documents = a.cfg.RAG.HRDocuments
	}

	idx, err := a.ingest.LoadAndProcessAll(ctx, documents)
	if err != nil {
		a.logger.Fatal("building index", zap.Error(err))
	}

	tokens := utils.NewTokenCounter(a.cfg.LLM.TokenEncoding)
	total := 0
	for _, chunk := range idx.Chunks() {
		n, _ := tokens.Count(chunk.Text)
		total += n
	}

	a.logger.Info("index built",
		zap.Strings("documents", documents),
		zap.Int("chunks", idx.Len()),
		zap.Int("dimensions", idx.Dimensions()),
		zap.Int("tokens", total),
	)

	if save, _ := cmd.Flags().GetBool("save"); save {
		store, err := a.openStore(ctx)
		if err != nil {
			a.logger.Fatal("opening pgvector store", zap.Error(err))
		}
		if err := store.Save(ctx, a.cfg.RAG.Postgres.Collection, idx); err != nil {
			a.logger.Fatal("saving index", zap.Error(err))
		}
	}

	query, _ := cmd.Flags().GetString("query")
	if query == "" {
		return
	}

	k := a.cfg.RAG.K
	if k <= 0 {
		k = index.DefaultK
	}

	scored, err := idx.SearchScored(ctx, query, k)
	if err != nil {
		a.logger.Fatal("searching index", zap.Error(err))
	}

	pretty, err := json.MarshalIndent(scored, "", "  ")
	if err != nil {
		a.logger.Fatal("encoding results", zap.Error(err))
	}
	fmt.Println(string(pretty))
}
