// Package templates holds the customer-facing message bodies the
// orchestrator sends. The copy is Portuguese and deliberately literal;
// operators see these exact strings in the conversation transcript.
package templates

import (
	"fmt"
	"strings"
)

// DefaultOperatorName is used in the greeting when no operator name is known.
const DefaultOperatorName = "Atendente"

// DefaultCustomerName is used when task attributes yield no customer name.
const DefaultCustomerName = "cliente"

// Greeting announces the operator taking over the conversation.
func Greeting(customerName, operatorName string) string {
	operator := strings.TrimSpace(operatorName)
	if operator == "" {
		operator = DefaultOperatorName
	}
	return fmt.Sprintf("Olá, %s. Meu nome é %s e irei dar continuidade ao seu atendimento.😉❤", customerName, operator)
}

// Ping asks whether the customer is still in the chat.
func Ping(customerName string) string {
	return fmt.Sprintf("Olá, %s. Você ainda está no chat?", customerName)
}

// Closure announces the inactivity close.
func Closure(customerName string) string {
	return fmt.Sprintf("Olá, %s. Identificamos que você está inativo e seu chat será encerrado por inatividade.", customerName)
}
