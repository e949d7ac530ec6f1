package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.mau.fi/util/random"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/matrix"
)

// State is what login remembers between invocations.
type State struct {
	DeviceID      id.DeviceID       `json:"device_id"`
	HomeserverURL string            `json:"homeserver_url"`
	ServerName    string            `json:"server_name"`
	Handle        entities.HandleID `json:"handle"`
	AccessToken   string            `json:"access_token"`
	Path          string            `json:"-"`
}

func (st *State) HasCredentials() bool {
	return st.AccessToken != "" && st.Handle != ""
}

// Claims returns the token claims, decoding them from the token itself when
// it is a JWT.
func (st *State) Claims() matrix.Claims {
	if claims, err := matrix.ParseTokenClaims(st.AccessToken); err == nil {
		if claims.DeviceID == "" {
			claims.DeviceID = st.DeviceID
		}
		return *claims
	}
	return matrix.Claims{
		Subject:    string(st.Handle),
		DeviceID:   st.DeviceID,
		Homeserver: st.ServerName,
	}
}

func (st *State) clear() {
	st.AccessToken = ""
	st.Handle = ""
	st.ServerName = ""
}

func newDeviceID() id.DeviceID {
	return id.DeviceID("commsctl_" + strings.ToUpper(random.String(8)))
}

func loadState(path string) (*State, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{DeviceID: newDeviceID(), Path: path}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to open state at %s: %w", path, err)
	}
	defer file.Close()

	var st State
	if err = json.NewDecoder(file).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to parse state at %s: %w", path, err)
	}
	st.Path = path
	if st.DeviceID == "" {
		st.DeviceID = newDeviceID()
	}
	return &st, nil
}

func (st *State) Save() error {
	if err := os.MkdirAll(filepath.Dir(st.Path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	file, err := os.OpenFile(st.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open state for writing: %w", err)
	}
	defer file.Close()
	if err = json.NewEncoder(file).Encode(st); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}
