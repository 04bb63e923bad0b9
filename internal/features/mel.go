// SPDX-License-Identifier: MIT
package features

import "math"

// hzToMel converts a frequency in Hz to the mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts a mel value back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterbank builds the triangular filter matrix, one row per mel band,
// each row holding a weight for every FFT magnitude bin (fftSize/2+1).
//
// numMels+2 points are spaced evenly in mel space between 0 Hz and the
// Nyquist frequency. Filter m rises from the center of point m to point m+1
// and falls to point m+2, sampled at the frequency of each FFT bin.
func melFilterbank(numMels, fftSize int, sampleRate float64) [][]float64 {
	numBins := fftSize/2 + 1
	melMin := hzToMel(0)
	melMax := hzToMel(sampleRate / 2.0)
	spacing := (melMax - melMin) / float64(numMels+1)

	centers := make([]float64, numMels+2)
	for i := range centers {
		centers[i] = melToHz(melMin + float64(i)*spacing)
	}

	bank := make([][]float64, numMels)
	for m := range bank {
		left := centers[m]
		center := centers[m+1]
		right := centers[m+2]

		row := make([]float64, numBins)
		for k := range numBins {
			freq := float64(k) * sampleRate / float64(fftSize)
			switch {
			case freq >= left && freq <= center:
				if center != left {
					row[k] = (freq - left) / (center - left)
				}
			case freq > center && freq <= right:
				if right != center {
					row[k] = (right - freq) / (right - center)
				}
			}
		}
		bank[m] = row
	}
	return bank
}
