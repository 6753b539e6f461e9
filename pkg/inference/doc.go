// Package inference is the client for the upstream text-generation backend.
//
// The backend speaks an Ollama-style protocol: a POST to the generate
// endpoint with
//
//	{"model":"...","prompt":"...","stream":true,"temperature":0.7,"top_p":0.9,"top_k":40,"max_tokens":512}
//
// answers with newline-delimited JSON objects of the form
//
//	{"model":"...","response":"He","done":false}
//
// terminated by an object with "done":true. With stream=false the backend
// returns one JSON object.
//
// # Streaming
//
// Client.Stream opens the request and returns a StreamReader. Each call to
// StreamReader.Next yields one Fragment holding both the decoded fields and
// the exact bytes of the line it came from, so callers can forward the raw
// bytes unchanged:
//
//	stream, err := client.Stream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for {
//	    frag, err := stream.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err // terminal, never retried
//	    }
//	    w.Write(frag.Raw)
//	}
//
// Malformed lines are logged and skipped. A stream that breaks part way
// through surfaces a *StreamError; nothing is retried once the stream is open.
//
// # Cancellation
//
// Client.Cancel posts to "<endpoint>/cancel". The backend treats it as a hint;
// fragments already in flight may still arrive.
package inference
