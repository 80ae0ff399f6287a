// Package ca registers and enrolls the application identity against the
// Fabric CA. Only cmd/provision uses it.
package ca

import (
	"fmt"

	"github.com/hyperledger/fabric-sdk-go/pkg/client/msp"
	"github.com/hyperledger/fabric-sdk-go/pkg/fabsdk"
	"go.uber.org/zap"
)

// Enrollment is the material a wallet needs.
type Enrollment struct {
	Cert []byte
	Key  []byte
}

type Service struct {
	sdk       *fabsdk.FabricSDK
	caName    string
	orgName   string
	adminUser string
	logger    *zap.Logger
}

// NewService binds an msp client factory to the registrar identity adminUser.
func NewService(sdk *fabsdk.FabricSDK, caName, orgName, adminUser string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sdk: sdk, caName: caName, orgName: orgName, adminUser: adminUser, logger: logger}
}

func (s *Service) client() (*msp.Client, error) {
	ctxProvider := s.sdk.Context(fabsdk.WithUser(s.adminUser), fabsdk.WithOrg(s.orgName))
	c, err := msp.New(ctxProvider, msp.WithCAInstance(s.caName))
	if err != nil {
		return nil, fmt.Errorf("failed to create msp client: %w", err)
	}
	return c, nil
}

// EnrollAdmin enrolls the registrar itself with its bootstrap secret.
func (s *Service) EnrollAdmin(secret string) (Enrollment, error) {
	return s.enroll(s.adminUser, secret)
}

// RegisterUser registers a client identity, creating its affiliation if needed.
func (s *Service) RegisterUser(enrollmentID, affiliation string, attributes []msp.Attribute) (string, error) {
	c, err := s.client()
	if err != nil {
		return "", err
	}
	if err := s.ensureAffiliation(c, affiliation); err != nil {
		return "", fmt.Errorf("failed to ensure affiliation %s: %w", affiliation, err)
	}
	secret, err := c.Register(&msp.RegistrationRequest{
		Name:        enrollmentID,
		Type:        "client",
		Affiliation: affiliation,
		Attributes:  attributes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to register user %s: %w", enrollmentID, err)
	}
	s.logger.Info("user registered", zap.String("enrollment_id", enrollmentID), zap.String("affiliation", affiliation))
	return secret, nil
}

// EnrollUser exchanges a registration secret for a certificate and key.
func (s *Service) EnrollUser(enrollmentID, secret string) (Enrollment, error) {
	return s.enroll(enrollmentID, secret)
}

func (s *Service) enroll(enrollmentID, secret string) (Enrollment, error) {
	c, err := s.client()
	if err != nil {
		return Enrollment{}, err
	}
	if err := c.Enroll(enrollmentID, msp.WithSecret(secret)); err != nil {
		return Enrollment{}, fmt.Errorf("failed to enroll user %s: %w", enrollmentID, err)
	}
	id, err := c.GetSigningIdentity(enrollmentID)
	if err != nil {
		return Enrollment{}, fmt.Errorf("failed to get signing identity: %w", err)
	}
	key, err := id.PrivateKey().Bytes()
	if err != nil {
		return Enrollment{}, fmt.Errorf("failed to get private key bytes: %w", err)
	}
	s.logger.Info("user enrolled", zap.String("enrollment_id", enrollmentID))
	return Enrollment{Cert: id.EnrollmentCertificate(), Key: key}, nil
}

func (s *Service) ensureAffiliation(c *msp.Client, target string) error {
	affiliations, err := c.GetAllAffiliations()
	if err != nil {
		return fmt.Errorf("failed to get affiliations: %w", err)
	}
	if hasAffiliation(affiliations.Affiliations, target) {
		return nil
	}
	if _, err := c.AddAffiliation(&msp.AffiliationRequest{Name: target, Force: true}); err != nil {
		return fmt.Errorf("failed to add affiliation %s: %w", target, err)
	}
	s.logger.Info("affiliation created", zap.String("affiliation", target))
	return nil
}

func hasAffiliation(tree []msp.AffiliationInfo, target string) bool {
	for _, aff := range tree {
		if aff.Name == target || hasAffiliation(aff.Affiliations, target) {
			return true
		}
	}
	return false
}
