package shared

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	. "github.com/PelionIoT/meshdb/logging"
)

const (
	DefaultPort                 = 9090
	DefaultRPCTimeoutMS         = 5000
	DefaultShutdownTimeoutMS    = 1000
	DefaultCheckpointIntervalMS = 60000
	MinCheckpointIntervalMS     = 1000
)

type YAMLServerConfig struct {
	ID                     string        `yaml:"id"`
	DBFile                 string        `yaml:"db"`
	Port                   int           `yaml:"port"`
	LogLevel               string        `yaml:"logLevel"`
	RPCTimeout             uint64        `yaml:"rpcTimeout"`
	ObtainReplicasWait     uint64        `yaml:"obtainReplicasWait"`
	ShutdownTimeout        uint64        `yaml:"shutdownTimeout"`
	CoherencePeriod        uint64        `yaml:"coherencePeriod"`
	CheckpointInterval     uint64        `yaml:"checkpointInterval"`
	PointsReplicasToItself bool          `yaml:"pointsReplicasToItself"`
	InboundMessageRate     float64       `yaml:"inboundMessageRate"`
	InboundMessageBurst    int           `yaml:"inboundMessageBurst"`
	MaxConnections         int           `yaml:"maxConnections"`
	Peers                  []YAMLPeer    `yaml:"peers"`
	TLS                    *YAMLTLSFiles `yaml:"tls"`
}

type YAMLPeer struct {
	ID   string `yaml:"id"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type YAMLTLSFiles struct {
	Certificate string `yaml:"certificate"`
	Key         string `yaml:"key"`
	RootCA      string `yaml:"rootCA"`
}

func (ysc *YAMLServerConfig) LoadFromFile(file string) error {
	rawConfig, err := ioutil.ReadFile(file)

	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(rawConfig, ysc); err != nil {
		return err
	}

	return ysc.validate(file)
}

func (ysc *YAMLServerConfig) validate(file string) error {
	if len(ysc.DBFile) == 0 {
		return errors.New("db must name the directory of the database")
	}

	if ysc.Port == 0 {
		ysc.Port = DefaultPort
	}

	if !isValidPort(ysc.Port) {
		return fmt.Errorf("%d is an invalid port for the database server", ysc.Port)
	}

	if len(ysc.LogLevel) != 0 && !LogLevelIsValid(ysc.LogLevel) {
		return fmt.Errorf("logLevel %s is not a valid log level", ysc.LogLevel)
	}

	if ysc.RPCTimeout == 0 {
		ysc.RPCTimeout = DefaultRPCTimeoutMS
	}

	if ysc.ObtainReplicasWait == 0 {
		ysc.ObtainReplicasWait = ysc.RPCTimeout
	}

	if ysc.ShutdownTimeout == 0 {
		ysc.ShutdownTimeout = DefaultShutdownTimeoutMS
	}

	if ysc.CheckpointInterval == 0 {
		ysc.CheckpointInterval = DefaultCheckpointIntervalMS
	}

	if ysc.CheckpointInterval < MinCheckpointIntervalMS {
		return fmt.Errorf("checkpointInterval must be at least %d", MinCheckpointIntervalMS)
	}

	if ysc.InboundMessageRate < 0 {
		return errors.New("inboundMessageRate must not be negative")
	}

	if ysc.InboundMessageBurst < 0 {
		return errors.New("inboundMessageBurst must not be negative")
	}

	if ysc.MaxConnections < 0 {
		return errors.New("maxConnections must not be negative")
	}

	if len(ysc.ID) == 0 {
		ysc.ID = uuid.New().String()

		Log.Infof("No id configured. Using generated id %s", ysc.ID)
	}

	seen := make(map[string]bool)

	for _, peer := range ysc.Peers {
		if len(peer.ID) == 0 {
			return errors.New("Peer ID is empty")
		}

		if peer.ID == ysc.ID {
			return fmt.Errorf("Peer %s has the id of this node", peer.ID)
		}

		if seen[peer.ID] {
			return fmt.Errorf("Duplicate entry for peer %s in config file", peer.ID)
		}

		seen[peer.ID] = true

		if len(peer.Host) == 0 {
			return fmt.Errorf("The host name is empty for peer %s", peer.ID)
		}

		if !isValidPort(peer.Port) || peer.Port == 0 {
			return fmt.Errorf("%d is an invalid port to connect to peer %s at %s", peer.Port, peer.ID, peer.Host)
		}
	}

	if ysc.TLS != nil {
		if err := ysc.TLS.load(file); err != nil {
			return err
		}
	}

	if len(ysc.LogLevel) != 0 {
		SetLoggingLevel(ysc.LogLevel)
	}

	return nil
}

// load replaces the file names with the contents of the files they name
func (files *YAMLTLSFiles) load(configFile string) error {
	certificate, err := ioutil.ReadFile(resolveFilePath(configFile, files.Certificate))

	if err != nil {
		return fmt.Errorf("Could not load certificate from %s", files.Certificate)
	}

	key, err := ioutil.ReadFile(resolveFilePath(configFile, files.Key))

	if err != nil {
		return fmt.Errorf("Could not load key from %s", files.Key)
	}

	rootCA, err := ioutil.ReadFile(resolveFilePath(configFile, files.RootCA))

	if err != nil {
		return fmt.Errorf("Could not load root CA chain from %s", files.RootCA)
	}

	files.Certificate = string(certificate)
	files.Key = string(key)
	files.RootCA = string(rootCA)

	if _, err := tls.X509KeyPair(certificate, key); err != nil {
		return errors.New("The specified certificate and key represent an invalid public/private key pair")
	}

	return nil
}

// ServerTLS and ClientTLS build the TLS configurations for the listener and
// for dialing peers. Both are nil when TLS is not configured.
func (ysc *YAMLServerConfig) ServerTLS() (*tls.Config, error) {
	if ysc.TLS == nil {
		return nil, nil
	}

	certificate, rootCAs, err := ysc.TLS.parse()

	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientCAs:    rootCAs,
		ClientAuth:   tls.VerifyClientCertIfGiven,
	}, nil
}

func (ysc *YAMLServerConfig) ClientTLS() (*tls.Config, error) {
	if ysc.TLS == nil {
		return nil, nil
	}

	certificate, rootCAs, err := ysc.TLS.parse()

	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		RootCAs:      rootCAs,
	}, nil
}

func (files *YAMLTLSFiles) parse() (tls.Certificate, *x509.CertPool, error) {
	certificate, err := tls.X509KeyPair([]byte(files.Certificate), []byte(files.Key))

	if err != nil {
		return tls.Certificate{}, nil, err
	}

	rootCAs := x509.NewCertPool()

	if !rootCAs.AppendCertsFromPEM([]byte(files.RootCA)) {
		return tls.Certificate{}, nil, errors.New("Could not append root CA to chain")
	}

	return certificate, rootCAs, nil
}

func Milliseconds(ms uint64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func isValidPort(p int) bool {
	return p >= 0 && p < (1<<16)
}

func resolveFilePath(configFileLocation, file string) string {
	if filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(filepath.Dir(configFileLocation), file)
}
