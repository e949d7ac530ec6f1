package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sudoplatform/securecomms/pkg/e2ee"
)

var keyBackupCommand = &cli.Command{
	Name:  "key-backup",
	Usage: "Manage the server side backup of room keys",
	Subcommands: []*cli.Command{
		{
			Name:   "status",
			Usage:  "Check whether a usable key backup exists",
			Before: requiresAuth,
			After:  closeSession,
			Action: cmdKeyBackupStatus,
		},
		{
			Name:   "create",
			Usage:  "Create a key backup and print its recovery key",
			Before: requiresAuth,
			After:  closeSession,
			Action: cmdKeyBackupCreate,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "passphrase", Usage: "Derive the recovery key from a passphrase"},
				&cli.BoolFlag{Name: "reset", Usage: "Replace an existing backup and secret storage"},
			},
		},
		{
			Name:      "recover",
			Usage:     "Restore room keys with a recovery key",
			ArgsUsage: "RECOVERY_KEY",
			Before:    requiresAuth,
			After:     closeSession,
			Action:    cmdKeyBackupRecover,
		},
	},
}

func printSAS(sas e2ee.SAS) {
	if len(sas.Emojis) > 0 {
		fmt.Fprintf(os.Stderr, "Compare with %s: %s (%s)\n", sas.UserID, string(sas.Emojis), strings.Join(sas.Descriptions, ", "))
	} else {
		fmt.Fprintf(os.Stderr, "Compare with %s: %v\n", sas.UserID, sas.Decimals)
	}
}

func cmdKeyBackupStatus(ctx *cli.Context) error {
	hasBackup, err := getClient(ctx).HasKeyBackup(ctx.Context)
	if err != nil {
		return err
	}
	if hasBackup {
		fmt.Println("Key backup available")
	} else {
		fmt.Println("No key backup")
	}
	return nil
}

func cmdKeyBackupCreate(ctx *cli.Context) error {
	client := getClient(ctx)
	var recoveryKey string
	var err error
	if ctx.Bool("reset") {
		recoveryKey, err = client.ResetKeyBackup(ctx.Context, ctx.String("passphrase"))
	} else {
		recoveryKey, err = client.CreateKeyBackup(ctx.Context, ctx.String("passphrase"))
	}
	if err != nil {
		return err
	}
	fmt.Println(recoveryKey)
	return nil
}

func cmdKeyBackupRecover(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a recovery key")
	}
	result, err := getClient(ctx).RecoverFromBackup(ctx.Context, strings.Join(ctx.Args().Slice(), " "))
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d of %d keys\n", result.Imported, result.Total)
	return nil
}
