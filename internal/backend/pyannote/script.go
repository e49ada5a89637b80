package pyannote

// embedScript computes one averaged embedding over the requested spans of an
// audio file. Audio is pre-loaded via torchaudio to avoid pyannote's
// torchcodec issues.
const embedScript = `#!/usr/bin/env python3
import argparse
import json
import sys
import warnings

warnings.filterwarnings("ignore", message=".*torchcodec.*")

import numpy as np
import torch
import torchaudio
from pyannote.audio import Inference, Model


def load_audio(audio_path, sample_rate=16000):
    waveform, sr = torchaudio.load(audio_path)
    if sr != sample_rate:
        waveform = torchaudio.transforms.Resample(sr, sample_rate)(waveform)
    if waveform.shape[0] > 1:
        waveform = waveform.mean(dim=0, keepdim=True)
    return waveform, sample_rate


def embed(audio_path, segments, hf_token):
    waveform, sr = load_audio(audio_path)
    device = torch.device("cuda" if torch.cuda.is_available() else "cpu")
    model = Model.from_pretrained("pyannote/embedding", token=hf_token).to(device)
    inference = Inference(model, window="whole")

    if not segments:
        segments = [[0.0, waveform.shape[1] / sr]]
    vectors = []
    for start, end in segments:
        lo, hi = int(start * sr), int(end * sr)
        if hi <= lo:
            continue
        chunk = waveform[:, lo:hi]
        vectors.append(np.asarray(inference({"waveform": chunk, "sample_rate": sr})).flatten())
    if not vectors:
        raise ValueError("no usable audio in requested segments")
    return np.mean(np.stack(vectors), axis=0).tolist()


def main():
    parser = argparse.ArgumentParser()
    parser.add_argument("--audio", required=True)
    parser.add_argument("--segments", default="[]")
    parser.add_argument("--hf-token", required=True)
    args = parser.parse_args()
    try:
        vector = embed(args.audio, json.loads(args.segments), args.hf_token)
        print(json.dumps({"embedding": vector}))
    except Exception as e:
        print(json.dumps({"error": str(e)}), file=sys.stderr)
        sys.exit(1)


if __name__ == "__main__":
    main()
`
