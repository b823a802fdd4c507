// Package repository define las interfaces de repositorio de dominio.
//
// Estas interfaces representan contratos de negocio, independientes del
// almacenamiento subyacente (PostgreSQL, SQLite, memoria).
//
// Las implementaciones concretas viven en internal/store/{pg,sqlite,memory}.
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│   jwt.KeyManager / scantoken.Issuer / attendance    │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  KeyRepository, ScanTokenRepository, SessionRepo    │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	         ┌──────────────┼──────────────┐
//	         ▼              ▼              ▼
//	┌─────────────┐  ┌─────────────┐  ┌─────────────┐
//	│  store/pg   │  │ store/sqlite│  │ store/memory│
//	└─────────────┘  └─────────────┘  └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Las mutaciones del toggle de asistencia corren dentro de Store.WithinTx
//   - Errores de dominio están en errors.go
//   - Las filas ScanToken y AttendanceSession son contrato con reporting/notificaciones:
//     no cambiar su forma sin coordinar con esos consumidores.
package repository
