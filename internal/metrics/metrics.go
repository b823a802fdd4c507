package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de dominio. Viven en un paquete propio para que jwt, scantoken y
// attendance las usen sin importar la capa HTTP.

var (
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leopass_scans_total",
		Help: "Scans procesados por resultado (action o clase de error)",
	}, []string{"result"})

	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "leopass_scan_duration_seconds",
		Help:    "Duración de ProcessScan",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	TokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leopass_tokens_issued_total",
		Help: "Scan tokens emitidos",
	})

	SigningKeysCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leopass_signing_keys_created_total",
		Help: "Claves de firma generadas (bootstrap o rotación)",
	})

	NotifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leopass_notify_failures_total",
		Help: "Eventos de asistencia que no pudieron emitirse",
	})
)

// Register registra las métricas de dominio (DefaultRegisterer si reg es nil).
// Registrar dos veces no es error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		ScansTotal, ScanDuration, TokensIssued, SigningKeysCreated, NotifyFailures,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPInflight,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// RegisterCollector registra c ignorando duplicados.
func RegisterCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}
