// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore: janelas por chave em memória, shards com lock próprio
//   - RedisCounterStore / PostgresCounterStore: contadores compartilhados entre instâncias
//   - MemoryStatsStore, RedisStatsStore, PrometheusStats: estatísticas de decisão
//   - ChanPool: semáforo simples para limite de concorrência
//   - SystemClock / ManualClock
package infra
