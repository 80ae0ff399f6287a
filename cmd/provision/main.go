// Command provision prepares the ledger identity and API tokens the server
// needs. The server itself never enrolls or imports identities.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fabconfig "github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/fabsdk"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"agri-trace-api-server/config"
	"agri-trace-api-server/internal/auth"
	"agri-trace-api-server/internal/ca"
	"agri-trace-api-server/internal/logger"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/wallet"
)

const usage = `usage: provision <command> [flags]

commands:
  import-identity   copy an existing certificate and key directory into the wallet
  enroll            register and enroll the application identity with the Fabric CA
  token             mint a role token for API clients
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	zl := logger.Must(logger.New(cfg.Log))
	defer func() { _ = zl.Sync() }()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "import-identity":
		err = importIdentity(cfg.Fabric, args, zl)
	case "enroll":
		err = enroll(cfg.Fabric, args, zl)
	case "token":
		err = token(cfg.Auth, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		zl.Error("provisioning failed", zap.String("command", cmd), zap.Error(err))
		os.Exit(1)
	}
}

func importIdentity(fc config.FabricConfig, args []string, zl *zap.Logger) error {
	fs := pflag.NewFlagSet("import-identity", pflag.ExitOnError)
	label := fs.String("label", fc.Identity, "wallet label")
	mspID := fs.String("msp-id", fc.MSPID, "MSP id of the identity")
	certPath := fs.String("cert", "", "path to the signing certificate (PEM)")
	keyDir := fs.String("key-dir", "", "directory holding the private key")
	_ = fs.Parse(args)
	if *certPath == "" || *keyDir == "" {
		return fmt.Errorf("--cert and --key-dir are required")
	}

	w, err := wallet.Open(fc.WalletPath)
	if err != nil {
		return err
	}
	imported, err := wallet.ImportIdentity(w, *label, *mspID, filepath.Clean(*certPath), filepath.Clean(*keyDir))
	if err != nil {
		return err
	}
	if !imported {
		zl.Info("identity already in wallet", zap.String("label", *label))
		return nil
	}
	zl.Info("identity imported", zap.String("label", *label), zap.String("wallet", fc.WalletPath))
	return nil
}

func enroll(fc config.FabricConfig, args []string, zl *zap.Logger) error {
	fs := pflag.NewFlagSet("enroll", pflag.ExitOnError)
	label := fs.String("label", fc.Identity, "enrollment id and wallet label")
	affiliation := fs.String("affiliation", strings.ToLower(fc.OrgName)+".department1", "CA affiliation")
	adminSecret := fs.String("admin-secret", fc.AdminSecret, "registrar secret")
	_ = fs.Parse(args)
	if fc.ConnectionProfile == "" {
		return fmt.Errorf("fabric.connectionProfile is required")
	}

	sdk, err := fabsdk.New(fabconfig.FromFile(filepath.Clean(fc.ConnectionProfile)))
	if err != nil {
		return fmt.Errorf("failed to create Fabric SDK: %w", err)
	}
	defer sdk.Close()

	svc := ca.NewService(sdk, fc.CAName, fc.OrgName, fc.AdminUser, logger.Named(zl, "ca"))
	if _, err := svc.EnrollAdmin(*adminSecret); err != nil {
		return err
	}
	secret, err := svc.RegisterUser(*label, *affiliation, nil)
	if err != nil {
		return err
	}
	enrollment, err := svc.EnrollUser(*label, secret)
	if err != nil {
		return err
	}

	w, err := wallet.Open(fc.WalletPath)
	if err != nil {
		return err
	}
	if err := wallet.Put(w, *label, fc.MSPID, enrollment.Cert, enrollment.Key); err != nil {
		return err
	}
	zl.Info("identity enrolled", zap.String("label", *label), zap.String("msp_id", fc.MSPID))
	return nil
}

func token(ac config.AuthConfig, args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ExitOnError)
	subject := fs.String("subject", "", "token subject")
	roleName := fs.String("role", string(models.RoleFarmer), "farmer, distributor, retailer or consumer")
	ttl := fs.Duration("ttl", ac.Expiration, "token lifetime")
	_ = fs.Parse(args)

	role, err := models.ParseRole(*roleName)
	if err != nil {
		return err
	}
	if *subject == "" {
		*subject = string(role)
	}
	tok, err := auth.NewIssuer(ac.JWTSecret, *ttl).GenerateJWT(*subject, role)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
