/*
Package visage analyzes a still image for faces. A single run detects the
face regions with a multi-scale cascade classifier, estimates the age and
dominant emotion of every face, renders an annotated copy of the image with
a box and a "<age> yrs (<emotion>)" label per face and, independently,
isolates the foreground from the background.

The detection stage is the only one allowed to fail a run. Attribute
estimation and background removal are pluggable capabilities: a face the
estimator cannot process is labelled "unknown", and a missing or failing
background remover leaves the foreground image out of the result, with a
note explaining why.

The package provides a command line interface and an HTTP server:

	$ visage analyze -i face.jpg -o annotated.png --foreground fg.png
	$ visage serve --addr :8080

In case you wish to integrate the API in a self constructed environment here is a simple example:

	package main

	import (
		"context"
		"log"
		"os"

		"github.com/esimov/visage"
	)

	func main() {
		f, _ := os.Open("face.jpg")
		img, err := visage.DecodeImage(f)
		if err != nil {
			log.Fatal(err)
		}
		p, err := visage.NewPipeline(visage.DefaultOptions())
		if err != nil {
			log.Fatal(err)
		}
		res, err := p.Run(context.Background(), img)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("found %d faces", res.FaceCount)
	}
*/
package visage
