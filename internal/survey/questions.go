// Package survey runs the five-question satisfaction survey sent after each
// spoken description.
package survey

const (
	TotalQuestions = 5
	MinScore       = 1
	MaxScore       = 5
)

const (
	CompletionMessage   = "✅ Obrigado por responder ao questionário!"
	InvalidScoreMessage = "❌ Valor inválido. Digite apenas números de 1 a 5."
)

var questions = [TotalQuestions]string{
	`⏱️ *Pergunta 1/5*
*Como você avalia o tempo que a aplicação levou para processar sua imagem?*

1️⃣ Muito lento
2️⃣ Lento
3️⃣ Razoável
4️⃣ Rápido
5️⃣ Muito rápido

📝 Digite sua resposta (1-5):`,
	`🎯 *Pergunta 2/5*
*Qual sua satisfação com a qualidade da descrição da imagem obtida?*

1️⃣ Muito insatisfeito
2️⃣ Insatisfeito
3️⃣ Neutro
4️⃣ Satisfeito
5️⃣ Muito satisfeito

📝 Digite sua resposta (1-5):`,
	`🎯 *Pergunta 3/5*
*O quão precisa você considera a descrição gerada?*

1️⃣ Nada precisa
2️⃣ Pouco precisa
3️⃣ Razoavelmente precisa
4️⃣ Muito precisa
5️⃣ Extremamente precisa

📝 Digite sua resposta (1-5):`,
	`🎯 *Pergunta 4/5*
*Como você avalia a facilidade de uso da aplicação?*

1️⃣ Muito difícil
2️⃣ Difícil
3️⃣ Razoável
4️⃣ Fácil
5️⃣ Muito fácil

📝 Digite sua resposta (1-5):`,
	`🎯 *Pergunta 5/5*
*Qual sua satisfação geral com o resultado obtido?*

1️⃣ Muito insatisfeito
2️⃣ Insatisfeito
3️⃣ Neutro
4️⃣ Satisfeito
5️⃣ Muito satisfeito

📝 Digite sua resposta (1-5):`,
}

// Question returns the prompt text for question n (1-based), or "" if n is
// out of range.
func Question(n int) string {
	if n < 1 || n > TotalQuestions {
		return ""
	}
	return questions[n-1]
}

func validScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
