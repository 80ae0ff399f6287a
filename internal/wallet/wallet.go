// Package wallet manages the file-system identity store shared by the ledger
// gateway and the provisioning tool.
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"
)

// ErrNoPrivateKey is returned when the key directory holds no file.
var ErrNoPrivateKey = errors.New("no private key found")

// Open creates the wallet directory when needed.
func Open(path string) (*gateway.Wallet, error) {
	if path == "" {
		path = "wallet"
	}
	w, err := gateway.NewFileSystemWallet(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet %s: %w", path, err)
	}
	return w, nil
}

// Put stores an X.509 identity under label, replacing any previous entry.
func Put(w *gateway.Wallet, label, mspID string, cert, key []byte) error {
	if label == "" || mspID == "" {
		return errors.New("wallet label and msp id are required")
	}
	return w.Put(label, gateway.NewX509Identity(mspID, string(cert), string(key)))
}

// ImportIdentity copies a certificate and the first private key found under
// keyDir into the wallet. Existing labels are left untouched; it reports
// whether anything was written.
func ImportIdentity(w *gateway.Wallet, label, mspID, certPath, keyDir string) (bool, error) {
	if w.Exists(label) {
		return false, nil
	}
	cert, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return false, err
	}
	keyPath, err := findPrivateKey(keyDir)
	if err != nil {
		return false, err
	}
	key, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return false, err
	}
	if err := Put(w, label, mspID, cert, key); err != nil {
		return false, err
	}
	return true, nil
}

func findPrivateKey(dir string) (string, error) {
	keyPath := ""
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if keyPath != "" {
			return filepath.SkipAll
		}
		if !info.IsDir() {
			keyPath = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if keyPath == "" {
		return "", fmt.Errorf("%w in directory %s", ErrNoPrivateKey, dir)
	}
	return keyPath, nil
}
