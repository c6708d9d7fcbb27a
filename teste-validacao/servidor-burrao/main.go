package main

import (
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
)

// Upstream burro para testar o gateway na mão:
//
//	ADMISSION_SERVER_UPSTREAM_URL=http://localhost:8081 gateway serve
//	for i in $(seq 1 120); do curl -s -o /dev/null -w "%{http_code}\n" localhost:8080/showTela; done
func main() {
	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		// o gateway gera o X-Request-ID; devolve para conferir no cliente
		if id := r.Header.Get("X-Request-ID"); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		log.WithFields(log.Fields{
			"request_id": r.Header.Get("X-Request-ID"),
			"forwarded":  r.Header.Get("X-Forwarded-For"),
		}).Info("Alguém acessou o endpoint /showTela")
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.Infof("Servidor rodando em http://localhost%s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.WithError(err).Fatal("Erro ao subir o servidor")
	}
}
