package functions

import (
	"context"
	"fmt"
)

// HelloInput is the parameter shape for the Hello function.
type HelloInput struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// HelloOutput is the result shape for the Hello function.
type HelloOutput struct {
	Greeting string `json:"greeting"`
	Original string `json:"original"`
}

func hello(_ context.Context, in HelloInput) (HelloOutput, error) {
	return HelloOutput{
		Greeting: fmt.Sprintf("Hello, %s!", in.Name),
		Original: in.Message,
	}, nil
}
