package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/matrix"
)

var loginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Log into a homeserver",
	Before: prepareApp,
	Action: cmdLogin,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "homeserver",
			Aliases:  []string{"s"},
			Usage:    "Homeserver base URL",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "token",
			Aliases: []string{"t"},
			Usage:   "Use an access token issued by the backend instead of a password",
			EnvVars: []string{"COMMSCTL_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "username",
			Aliases: []string{"u"},
			Usage:   "Username for password login",
		},
	},
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Log out and forget the saved access token",
	Before: requiresAuth,
	After:  closeSession,
	Action: cmdLogout,
}

var whoamiCommand = &cli.Command{
	Name:    "whoami",
	Aliases: []string{"w"},
	Usage:   "Show the logged in user and device",
	Before:  requiresAuth,
	After:   closeSession,
	Action:  cmdWhoami,
}

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

func loginWithPassword(ctx *cli.Context, st *State) error {
	username := ctx.String("username")
	var err error
	if username == "" {
		if username, err = readLine("Username: "); err != nil {
			return err
		}
	}
	password, err := readLine("Password: ")
	if err != nil {
		return err
	}
	client, err := mautrix.NewClient(st.HomeserverURL, "", "")
	if err != nil {
		return fmt.Errorf("failed to create matrix client: %w", err)
	}
	resp, err := client.Login(ctx.Context, &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypePassword,
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: username},
		Password:                 password,
		DeviceID:                 st.DeviceID,
		InitialDeviceDisplayName: "commsctl",
	})
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	localpart, serverName, err := resp.UserID.Parse()
	if err != nil {
		return fmt.Errorf("failed to parse user ID %s: %w", resp.UserID, err)
	}
	st.AccessToken = resp.AccessToken
	st.DeviceID = resp.DeviceID
	st.Handle = entities.HandleID(localpart)
	st.ServerName = serverName
	return nil
}

func loginWithToken(ctx *cli.Context, st *State) error {
	token := ctx.String("token")
	claims, err := matrix.ParseTokenClaims(token)
	if err != nil {
		return err
	}
	st.AccessToken = token
	st.Handle = entities.HandleID(claims.Subject)
	st.ServerName = claims.Homeserver
	if claims.DeviceID != "" {
		st.DeviceID = claims.DeviceID
	}
	client, err := matrix.NewClient(matrix.Options{
		AccessToken:   token,
		Claims:        st.Claims(),
		HomeserverURL: st.HomeserverURL,
		Log:           *getLogger(ctx),
	})
	if err != nil {
		return err
	}
	defer client.Close()
	if _, err = client.Whoami(ctx.Context); err != nil {
		return fmt.Errorf("token was rejected: %w", err)
	}
	return nil
}

func cmdLogin(ctx *cli.Context) error {
	st := getState(ctx)
	st.HomeserverURL = strings.TrimRight(ctx.String("homeserver"), "/")
	var err error
	if ctx.IsSet("token") {
		err = loginWithToken(ctx, st)
	} else {
		err = loginWithPassword(ctx, st)
	}
	if err != nil {
		return err
	}
	if err = st.Save(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	fmt.Printf("Logged in as %s\n", st.Handle)
	return nil
}

func cmdLogout(ctx *cli.Context) error {
	client := getClient(ctx)
	client.SignOut(ctx.Context)
	if _, err := client.Protocol().Logout(ctx.Context); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to invalidate access token: %v\n", err)
	}
	st := getState(ctx)
	handle := st.Handle
	st.clear()
	if err := st.Save(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	fmt.Printf("Logged out of %s\n", handle)
	return nil
}

func cmdWhoami(ctx *cli.Context) error {
	client := getClient(ctx)
	resp, err := client.Whoami(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Println(resp.UserID)
	if resp.DeviceID != "" {
		fmt.Printf("  device %s\n", resp.DeviceID)
	}
	fmt.Printf("  handle %s\n", client.HandleID)
	return nil
}
