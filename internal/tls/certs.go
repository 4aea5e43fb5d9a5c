// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package tls issues and loads the mutual-TLS material replicas of one
// cluster use to call each other.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io/fs"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// File names inside a certs directory.
const (
	caCertFile = "root-ca.crt"
	caKeyFile  = "root-ca.key"
)

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// NodeCert is a replica certificate valid for both serving and dialing.
type NodeCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	Name        string
}

// ClusterURI is the SAN URI that binds a CA to its cluster.
func ClusterURI(clusterID string) string {
	return "icedrive://cluster/" + clusterID
}

// GenerateCA creates a root CA for clusterID, embedded in CN and as a SAN URI.
func GenerateCA(clusterID string) (*CA, error) {
	key, serial, err := newKeyAndSerial()
	if err != nil {
		return nil, err
	}

	clusterURI, err := url.Parse(ClusterURI(clusterID))
	if err != nil {
		return nil, oops.Code("TLS_CA_FAILED").With("cluster_id", clusterID).Wrap(err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"IceDrive"},
			CommonName:   "IceDrive CA " + clusterID,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		URIs:                  []*url.URL{clusterURI},
	}

	cert, err := sign(template, template, &key.PublicKey, key)
	if err != nil {
		return nil, oops.Code("TLS_CA_FAILED").With("cluster_id", clusterID).Wrap(err)
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateNodeCert issues a certificate for the replica called name. hosts
// are added as DNS or IP SANs next to localhost and 127.0.0.1.
func GenerateNodeCert(ca *CA, name string, hosts ...string) (*NodeCert, error) {
	key, serial, err := newKeyAndSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"IceDrive"},
			CommonName:   "icedrive-" + name,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	cert, err := sign(template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, oops.Code("TLS_NODE_CERT_FAILED").With("name", name).Wrap(err)
	}
	return &NodeCert{Certificate: cert, PrivateKey: key, Name: name}, nil
}

// SaveCertificates writes the CA as root-ca.{crt,key} and, when node is not
// nil, the node certificate as {name}.{crt,key}.
func SaveCertificates(certsDir string, ca *CA, node *NodeCert) error {
	if err := os.MkdirAll(certsDir, 0o700); err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("dir", certsDir).Wrap(err)
	}

	if err := savePair(certsDir, "root-ca", ca.Certificate, ca.PrivateKey); err != nil {
		return err
	}
	if node != nil {
		if err := savePair(certsDir, node.Name, node.Certificate, node.PrivateKey); err != nil {
			return err
		}
	}
	return nil
}

// LoadCA loads the CA from certsDir.
func LoadCA(certsDir string) (*CA, error) {
	cert, err := readCert(filepath.Join(certsDir, caCertFile))
	if err != nil {
		return nil, err
	}
	key, err := readKey(filepath.Join(certsDir, caKeyFile))
	if err != nil {
		return nil, err
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// EnsureNode loads the CA from certsDir, creating one for clusterID when
// absent, and issues a certificate for name when none exists yet.
func EnsureNode(certsDir, clusterID, name string, hosts ...string) error {
	ca, err := LoadCA(certsDir)
	if errors.Is(err, fs.ErrNotExist) {
		ca, err = GenerateCA(clusterID)
		if err == nil {
			err = SaveCertificates(certsDir, ca, nil)
		}
	}
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(certsDir, name+".crt")); err == nil {
		return nil
	}
	node, err := GenerateNodeCert(ca, name, hosts...)
	if err != nil {
		return err
	}
	return SaveCertificates(certsDir, ca, node)
}

// ServerConfig returns a TLS config that serves name's certificate and
// requires peers to present one signed by the cluster CA.
func ServerConfig(certsDir, name string) (*cryptotls.Config, error) {
	pair, pool, err := loadNode(certsDir, name)
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		ClientCAs:    pool,
		ClientAuth:   cryptotls.RequireAndVerifyClientCert,
		MinVersion:   cryptotls.VersionTLS13,
	}, nil
}

// ClientConfig returns a TLS config that presents name's certificate and
// trusts only the cluster CA.
func ClientConfig(certsDir, name string) (*cryptotls.Config, error) {
	pair, pool, err := loadNode(certsDir, name)
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		RootCAs:      pool,
		MinVersion:   cryptotls.VersionTLS13,
	}, nil
}

func loadNode(certsDir, name string) (cryptotls.Certificate, *x509.CertPool, error) {
	pair, err := cryptotls.LoadX509KeyPair(
		filepath.Join(certsDir, name+".crt"),
		filepath.Join(certsDir, name+".key"))
	if err != nil {
		return cryptotls.Certificate{}, nil, oops.Code("TLS_LOAD_FAILED").
			With("dir", certsDir).
			With("name", name).
			Wrap(err)
	}
	ca, err := readCert(filepath.Join(certsDir, caCertFile))
	if err != nil {
		return cryptotls.Certificate{}, nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(ca)
	return pair, pool, nil
}

func newKeyAndSerial() (*ecdsa.PrivateKey, *big.Int, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, oops.Code("TLS_KEYGEN_FAILED").Wrap(err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, oops.Code("TLS_KEYGEN_FAILED").With("operation", "serial").Wrap(err)
	}
	return key, serial, nil
}

func sign(template, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	return x509.ParseCertificate(der) //nolint:wrapcheck // wrapped by caller
}

func savePair(dir, base string, cert *x509.Certificate, key *ecdsa.PrivateKey) error {
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("name", base).Wrap(err)
	}
	if err := writePEM(filepath.Join(dir, base+".crt"), "CERTIFICATE", cert.Raw); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, base+".key"), "EC PRIVATE KEY", keyBytes)
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func readBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", path).Wrap(err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", path).Errorf("no PEM block found")
	}
	return block, nil
}

func readCert(path string) (*x509.Certificate, error) {
	block, err := readBlock(path)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return cert, nil
}

func readKey(path string) (*ecdsa.PrivateKey, error) {
	block, err := readBlock(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return key, nil
}
