// Package offline es el lado cliente del escáner: cola durable de scans
// pendientes, verificación local de tokens contra un JWKS cacheado y el
// reenvío ordenado cuando vuelve la conectividad.
package offline
