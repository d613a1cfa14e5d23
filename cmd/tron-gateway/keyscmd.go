package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/shkeeper-io/tron-gateway/internal/keeper"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/txsign"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
)

var generateAddressCommand = &cli.Command{
	Name:  "generate-address",
	Usage: "generate a fresh Tron keypair and print its address, without touching any store",
	Action: func(cctx *cli.Context) error {
		_, address, err := txsign.GenerateAddress()
		if err != nil {
			return err
		}
		fmt.Println(address)
		return nil
	},
}

var dumpKeysCommand = &cli.Command{
	Name:  "dump-keys",
	Usage: "print every stored key record as JSON, decrypting private key material unless --redact is set",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "redact", Usage: "omit decrypted private key material from the dump"},
	},
	Action: runDumpKeys,
}

type dumpedKey struct {
	Symbol            string `json:"symbol"`
	Type              string `json:"type"`
	Address           string `json:"address"`
	Private           string `json:"private,omitempty"`
	ExternallyManaged bool   `json:"externally_managed"`
}

func runDumpKeys(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	enc := walletstore.NewEncryptor()
	kc := keeper.New(cfg.ShkeeperHost, cfg.ShkeeperBackendKey)
	if err := walletstore.Bootstrap(context.Background(), kc, nativeSymbol, enc, st.Keys, false); err != nil {
		return fmt.Errorf("bootstrap wallet encryption: %w", err)
	}
	keys := walletstore.NewKeyStore(st.Keys, enc)

	records, err := st.Keys.All(context.Background())
	if err != nil {
		return err
	}

	redact := cctx.Bool("redact")
	out := make([]dumpedKey, 0, len(records))
	for _, rec := range records {
		d := dumpedKey{
			Symbol:            rec.Symbol,
			Type:              string(rec.Type),
			Address:           rec.Public,
			ExternallyManaged: rec.ExternallyManaged,
		}
		if !redact && !rec.ExternallyManaged {
			priv, _, ok, err := keys.GetKey(context.Background(), rec.Type, rec.Public)
			if err != nil {
				return err
			}
			if ok {
				d.Private = priv
			}
		}
		out = append(out, d)
	}

	enc2 := json.NewEncoder(os.Stdout)
	enc2.SetIndent("", "  ")
	return enc2.Encode(out)
}
