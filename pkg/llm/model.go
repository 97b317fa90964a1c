package llm

// ModelSpec - лимиты модели, нужные циклу агента и суммаризаторам.
type ModelSpec struct {
	// Name - имя модели в API, оно же ключ в леджере токенов.
	Name string

	// MaxTokens - размер контекстного окна.
	MaxTokens int

	// MaxCompletionTokens - лимит ответа, 0 = по умолчанию провайдера.
	MaxCompletionTokens int

	// ImageSizeLimit - максимальный размер картинки в байтах, 0 = vision не поддерживается.
	ImageSizeLimit int
}
