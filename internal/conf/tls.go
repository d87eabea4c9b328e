package conf

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

// LoadClientCertificate loads the gateway client certificate from a PKCS#12
// bundle or a PEM certificate and key pair.
func LoadClientCertificate(settings CertificateSettings) (tls.Certificate, error) {
	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case settings.PKCS12 != "":
		cert, err = loadPKCS12(settings.PKCS12, settings.Password)
	case settings.CertFile != "" && settings.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
		if err != nil {
			err = errors.New(err).
				Component("conf").
				Category(errors.CategoryCertificate).
				Context("cert_file", settings.CertFile).
				Context("operation", "load_pem_certificate").
				Build()
		}
	default:
		err = errors.Newf("no client certificate configured").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "load_client_certificate").
			Build()
	}
	if err != nil {
		return tls.Certificate{}, err
	}

	if err := checkValidity(&cert); err != nil {
		return tls.Certificate{}, err
	}
	return cert, nil
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return tls.Certificate{}, errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("pkcs12", path).
			Context("operation", "read_pkcs12").
			Build()
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return tls.Certificate{}, errors.New(err).
			Component("conf").
			Category(errors.CategoryCertificate).
			Context("pkcs12", path).
			Context("operation", "decode_pkcs12").
			Build()
	}

	var pemData []byte
	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}

	cert, err := tls.X509KeyPair(pemData, pemData)
	if err != nil {
		return tls.Certificate{}, errors.New(err).
			Component("conf").
			Category(errors.CategoryCertificate).
			Context("pkcs12", path).
			Context("operation", "build_key_pair").
			Build()
	}
	return cert, nil
}

// checkValidity parses the leaf and rejects certificates that are expired or
// not yet valid.
func checkValidity(cert *tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return errors.Newf("client certificate contains no certificates").
			Component("conf").
			Category(errors.CategoryCertificate).
			Build()
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryCertificate).
			Context("operation", "parse_leaf_certificate").
			Build()
	}
	cert.Leaf = leaf

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return errors.Newf("client certificate %q is valid from %s to %s",
			leaf.Subject.CommonName, leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339)).
			Component("conf").
			Category(errors.CategoryCertificate).
			Context("operation", "check_certificate_validity").
			Build()
	}

	GetLogger().Info("loaded client certificate",
		logger.String("subject", leaf.Subject.CommonName),
		logger.Time("not_after", leaf.NotAfter))
	return nil
}
