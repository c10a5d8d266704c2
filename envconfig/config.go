// config.go - Haupt-Konfigurationsfunktionen fuer clbt
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (CLBT_DEBUG)
// - LocalRank: Prozess-Rang auf diesem Knoten (LOCAL_RANK)
// - Rank/WorldSize: Globaler Rang und Anzahl Prozesse (RANK, WORLD_SIZE)
// - MasterHost/MasterPort/MasterAddr: Rendezvous-Adresse der Prozessgruppe
// - RendezvousTimeout: Timeout fuer den Aufbau der Prozessgruppe
// - CudaVisibleDevices: Sichtbare NVIDIA-Geraete
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags
// - config_utils.go: Utility-Funktionen und AsMap
package envconfig

import (
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via CLBT_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("CLBT_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// LocalRank gibt den lokalen Prozess-Rang zurueck
// Konfigurierbar via LOCAL_RANK (gesetzt von torchrun-kompatiblen Launchern)
// Default: -1 (kein verteilter Lauf)
var LocalRank = Int("LOCAL_RANK", -1)

// Rank gibt den globalen Prozess-Rang zurueck
// Konfigurierbar via RANK
// Default: -1 (wird dann aus LOCAL_RANK abgeleitet)
var Rank = Int("RANK", -1)

// WorldSize gibt die Anzahl der Prozesse zurueck
// Konfigurierbar via WORLD_SIZE
// Default: 1
var WorldSize = Int("WORLD_SIZE", 1)

// MasterHost gibt den Host des Rang-0-Prozesses zurueck
// Konfigurierbar via MASTER_ADDR
// Default: 127.0.0.1
func MasterHost() string {
	if host := Var("MASTER_ADDR"); host != "" {
		return host
	}
	return "127.0.0.1"
}

// MasterPort gibt den Rendezvous-Port zurueck
// Konfigurierbar via MASTER_PORT, ungueltige Ports fallen auf den Default zurueck
// Default: 29500
func MasterPort() int {
	port := Var("MASTER_PORT")
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		if port != "" {
			slog.Warn("invalid port, using default", "port", port, "default", 29500)
		}
		return 29500
	}
	return int(n)
}

// MasterAddr gibt die Host:Port-Adresse des Rang-0-Prozesses zurueck
func MasterAddr() string {
	return net.JoinHostPort(MasterHost(), strconv.Itoa(MasterPort()))
}

// RendezvousTimeout gibt das Timeout fuer den Aufbau der Prozessgruppe zurueck
// Konfigurierbar via CLBT_RENDEZVOUS_TIMEOUT (Dauer oder Sekunden)
// Default: 5 Minuten
func RendezvousTimeout() (timeout time.Duration) {
	timeout = 5 * time.Minute
	if s := Var("CLBT_RENDEZVOUS_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			timeout = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			timeout = time.Duration(n) * time.Second
		}
	}

	if timeout <= 0 {
		return 5 * time.Minute
	}

	return timeout
}

// CudaVisibleDevices gibt CUDA_VISIBLE_DEVICES zurueck. ok ist false wenn
// die Variable nicht gesetzt ist; ein leerer Wert blendet alle Geraete aus.
func CudaVisibleDevices() (devices string, ok bool) {
	s, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES")
	return strings.Trim(strings.TrimSpace(s), "\"'"), ok
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
